package main

import (
	"github.com/AndrewDeWitt/GrimLog-sub006/cmd"
)

func main() {
	cmd.Execute()
}
