package main

import "github.com/kozaktomas/school-attendance/cmd"

func main() {
	cmd.Execute()
}
