package main

import "github.com/fatih/color"

var (
	red       = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green     = color.New(color.FgHiGreen).SprintFunc()
	cyan      = color.New(color.FgHiCyan).SprintFunc()
	gray      = color.New(color.FgHiBlack).SprintFunc()
	lightGray = color.New(color.FgWhite).SprintFunc()
)
