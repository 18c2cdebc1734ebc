package main

import "github.com/ntdev/gatekeeper/cmd/gatekeeper/cmd"

func main() {
	cmd.Execute()
}
