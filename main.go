package main

import (
	"github.com/luma/msgr/cmd"
)

func main() {
	cmd.Execute()
}
