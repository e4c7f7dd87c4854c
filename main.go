package main

import "github.com/Yates-Labs/kalki/cmd"

func main() {
	cmd.Execute()
}
