package main

import "github.com/Davincible/claude-gateway-go/cmd"

func main() {
	cmd.Execute()
}
