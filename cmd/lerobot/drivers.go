package main

import (
	"fmt"
	"log/slog"

	"github.com/gwillem/lerobot-relay/pkg/teleop"
)

type DriversCommand struct{}

func (c *DriversCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Followers"))
	for _, kind := range newRegistry(slog.Default()).Kinds() {
		fmt.Println("  " + kind)
	}
	fmt.Println()
	fmt.Println(headerStyle.Render("Leaders"))
	for _, kind := range []string{teleop.KindSO101Leader, teleop.KindBimanualSO101Leader, teleop.KindSimLeader} {
		fmt.Println("  " + kind)
	}
	return nil
}
