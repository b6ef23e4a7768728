package texnorm

// unwrapPass replaces `\cmd{content}` by content for each command, keeping
// nested groups and math intact.
func unwrapPass(commands []string) func(string) string {
	return func(text string) string {
		for _, cmd := range commands {
			text = unwrapCommand(text, cmd)
		}
		return text
	}
}

func unwrapCommand(text, name string) string {
	return rewriteCommand(text, name, func(arg string) string {
		return unwrapCommand(arg, name)
	})
}
