package main

import "pool-liquidity-alerts/internal/cli"

func main() {
	cli.Execute()
}
