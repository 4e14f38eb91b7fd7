package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind separates breach messages from recovery messages.
type Kind string

const (
	KindBreach   Kind = "breach"
	KindRecovery Kind = "recovery"
)

// Direction labels.
const (
	DirectionIncreased = "increased"
	DirectionDecreased = "decreased"
)

// Metric names.
const (
	MetricPrice     = "price"
	MetricLiquidity = "liquidity"
)

// Notification carries everything needed to render an alert.
type Notification struct {
	Kind         Kind
	Repeat       bool
	PoolID       string
	PoolName     string
	Pair         string
	Metric       string
	Basis        string
	Direction    string
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Value        decimal.Decimal
	At           time.Time
	ExtremeAt    time.Time
}

// NewNotification builds the payload for a transition that notifies.
func NewNotification(tr Transition, change, threshold, value decimal.Decimal, at time.Time) Notification {
	note := Notification{
		Kind:         KindBreach,
		Repeat:       tr == TransitionRealert,
		ChangePct:    change,
		ThresholdPct: threshold,
		Value:        value,
		At:           at,
	}
	if tr == TransitionRecovery {
		note.Kind = KindRecovery
		return note
	}
	note.Direction = DirectionOf(change)
	return note
}

// DirectionOf maps a signed change to a direction label; zero counts as an increase.
func DirectionOf(change decimal.Decimal) string {
	if change.Sign() < 0 {
		return DirectionDecreased
	}
	return DirectionIncreased
}

// markdownEscaper escapes the entity markers of Telegram's legacy Markdown.
var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// renderer formats the fixed layout either as Markdown or as plain text.
// Free-form fields such as pool names go through esc.
type renderer struct {
	markdown bool
}

func (r renderer) bold(s string) string {
	if r.markdown {
		return "*" + s + "*"
	}
	return s
}

func (r renderer) italic(s string) string {
	if r.markdown {
		return "_" + s + "_"
	}
	return s
}

func (r renderer) esc(s string) string {
	if r.markdown {
		return markdownEscaper.Replace(s)
	}
	return s
}

func (n Notification) poolLabel() string {
	switch {
	case n.Pair != "" && n.PoolName != "":
		return fmt.Sprintf("%s (%s)", n.Pair, n.PoolName)
	case n.Pair != "":
		return n.Pair
	case n.PoolName != "":
		return n.PoolName
	default:
		return n.PoolID
	}
}

func (n Notification) metricTitle() string {
	if n.Metric == "" {
		return "Metric"
	}
	return strings.ToUpper(n.Metric[:1]) + n.Metric[1:]
}

func (n Notification) valueLine(r renderer) string {
	label := r.bold("Current " + n.metricTitle())
	if n.Metric == MetricPrice && n.Basis != "" {
		return fmt.Sprintf("%s (%s): %s\n", label, r.esc(n.Basis), n.Value.String())
	}
	return fmt.Sprintf("%s: %s\n", label, n.Value.String())
}

// Text renders the notification as Telegram Markdown.
func (n Notification) Text() string {
	return n.render(renderer{markdown: true})
}

// PlainText renders the notification without markup.
func (n Notification) PlainText() string {
	return n.render(renderer{})
}

func (n Notification) render(r renderer) string {
	title := n.metricTitle()
	pool := r.esc(n.poolLabel())
	b := strings.Builder{}

	if n.Kind == KindRecovery {
		b.WriteString(fmt.Sprintf("ℹ️ %s\n", r.bold(title+" Update")))
		b.WriteString(fmt.Sprintf("%s change is back below threshold for pool %s\n", title, pool))
		b.WriteString(n.valueLine(r))
		b.WriteString(fmt.Sprintf("%s: %s UTC\n", r.bold("Time"), n.At.UTC().Format(time.RFC3339)))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("⚠️ %s\n", r.bold(title+" Alert")))
	b.WriteString(fmt.Sprintf("%s: %s\n", r.bold("Pool"), pool))
	b.WriteString(fmt.Sprintf("%s: %s\n", r.bold(fmt.Sprintf("%s has %s by", title, n.Direction)), r.bold(n.ChangePct.Abs().StringFixed(2)+"%")))
	b.WriteString(fmt.Sprintf("%s: %s%%\n", r.bold("Threshold"), n.ThresholdPct.String()))
	b.WriteString(n.valueLine(r))
	if !n.ExtremeAt.IsZero() {
		b.WriteString(fmt.Sprintf("%s: %s UTC\n", r.bold("Since"), n.ExtremeAt.UTC().Format(time.RFC3339)))
	}
	b.WriteString(fmt.Sprintf("%s: %s UTC\n", r.bold("Time"), n.At.UTC().Format(time.RFC3339)))
	if n.Repeat {
		b.WriteString(r.italic("still above threshold") + "\n")
	}
	return b.String()
}

// Title is a one-line summary used by channels with a separate subject.
func (n Notification) Title() string {
	if n.Kind == KindRecovery {
		return fmt.Sprintf("%s back below threshold: %s", n.metricTitle(), n.poolLabel())
	}
	return fmt.Sprintf("%s %s %s%%: %s", n.metricTitle(), n.Direction, n.ChangePct.Abs().StringFixed(2), n.poolLabel())
}
