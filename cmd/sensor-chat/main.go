package main

import "github.com/strrl/sensor-chat/internal/cmd"

func main() {
	cmd.Execute()
}
