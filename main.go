package main

import (
	"github.com/foomo/cloudbackup/cmd"
)

func main() {
	cmd.Execute()
}
