package commands

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML parse mode.
func (r *Router) helpText(prefix string, args []string) string {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], prefix))
		c, ok := r.lookup(word)
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>" + html.EscapeString(prefix) + "help</code> for the list."
		}
		return commandHelp(prefix, c)
	}

	cmds := r.Commands()
	// Owner-only commands at the bottom, alphabetical within groups.
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>" + html.EscapeString(prefix) + "help &lt;command&gt;</code> for details.",
		"",
	}
	for _, c := range cmds {
		line := "<code>" + html.EscapeString(prefix+c.Name) + "</code>"
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		if c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func commandHelp(prefix string, c *Command) string {
	lines := []string{"<b>" + html.EscapeString(prefix+c.Name) + "</b>"}
	if c.Description != "" {
		lines = append(lines, html.EscapeString(c.Description))
	}
	usage := c.Usage
	if usage == "" {
		usage = c.Name
	}
	lines = append(lines, "Usage: <code>"+html.EscapeString(prefix+usage)+"</code>")
	if c.Notes != "" {
		lines = append(lines, html.EscapeString(c.Notes))
	}
	if len(c.Aliases) > 0 {
		as := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			as = append(as, "<code>"+html.EscapeString(prefix+a)+"</code>")
		}
		lines = append(lines, "Aliases: "+strings.Join(as, ", "))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 owner only")
	}
	return strings.Join(lines, "\n")
}
