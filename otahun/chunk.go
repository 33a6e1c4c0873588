package otahun

import "strings"

// ChunkText splits text into chunks of at most maxSize bytes, preferring
// paragraph boundaries and falling back to sentence boundaries for
// paragraphs that are individually too long. A single sentence longer
// than maxSize is emitted as one oversized chunk rather than being cut
// mid-word.
func ChunkText(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		if current.Len()+len(paragraph)+2 > maxSize && current.Len() > 0 {
			flush()
		}
		if len(paragraph) > maxSize {
			for _, sentence := range strings.Split(paragraph, ". ") {
				if current.Len()+len(sentence)+2 > maxSize && current.Len() > 0 {
					flush()
				}
				current.WriteString(sentence)
				current.WriteString(". ")
			}
		} else {
			current.WriteString(paragraph)
			current.WriteString("\n\n")
		}
	}
	flush()

	return chunks
}
