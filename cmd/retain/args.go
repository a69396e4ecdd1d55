package main

import "strings"

// reorderInterspersedFlags moves flags ahead of positionals so the stdlib
// flag package sees them all.
func reorderInterspersedFlags(arguments []string, valueFlags map[string]bool) []string {
	if len(arguments) == 0 {
		return arguments
	}

	flags := make([]string, 0, len(arguments))
	positionals := make([]string, 0, len(arguments))

	for index := 0; index < len(arguments); index++ {
		argument := arguments[index]
		if argument == "--" {
			positionals = append(positionals, arguments[index+1:]...)
			break
		}
		if len(argument) < 2 || !strings.HasPrefix(argument, "-") {
			positionals = append(positionals, argument)
			continue
		}

		flags = append(flags, argument)
		if strings.Contains(argument, "=") || !valueFlags[strings.TrimLeft(argument, "-")] {
			continue
		}
		if index+1 < len(arguments) {
			index++
			flags = append(flags, arguments[index])
		}
	}

	return append(flags, positionals...)
}

func hasExplainFlag(arguments []string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == "--explain" {
			return true
		}
	}
	return false
}

func writeExplain(text string) int {
	_, _ = stdout.Write([]byte(text + "\n"))
	return exitOK
}
