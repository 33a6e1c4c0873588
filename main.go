package main

import (
	"github.com/Psyphen36/Otahun/cmd"
)

func main() {
	cmd.Execute()
}
