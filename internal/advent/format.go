package advent

import "context"

// ParseModeMarkdown is the Telegram parse mode entries are sent with.
const ParseModeMarkdown = "Markdown"

// FormatEntry renders an entry as "*<title>* (<dd.mm.yyyy>)\n\n<description>".
func FormatEntry(e Entry) string {
	return "*" + e.Title + "* (" + e.Date.Display() + ")\n\n" + e.Description
}

// FormatEntry looks up the entry for d and renders it. ok is false when no
// entry exists for d.
func (e *Engine) FormatEntry(ctx context.Context, d Date) (text string, ok bool, err error) {
	en, ok, err := e.content.GetEntry(ctx, d)
	if err != nil || !ok {
		return "", false, err
	}
	return FormatEntry(en), true, nil
}
