// cmd/nutrivision/main.go
package main

import "nutrivision/internal/cli"

func main() {
	cli.Execute()
}
