package main

import "github.com/lu-zhengda/mailgate/internal/cli"

func main() {
	cli.Execute()
}
