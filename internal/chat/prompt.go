package chat

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/corpusd/internal/llm"
	"github.com/efebarandurmaz/corpusd/internal/vector"
)

const systemPrompt = `You are an assistant that answers questions about an organization's document corpus.

Answer only from the context provided with each question. The context lists excerpts with their source document and page number; cite both when you use an excerpt. If the context does not contain the answer, say you do not know rather than guessing. Explain in detail, with examples from the context where they help.

Respond in the language of the question, in a professional and courteous tone.`

// BuildPrompt assembles the generation request: a fixed system prompt plus a
// user turn carrying the retrieved context, the conversation summary, and the
// question.
func BuildPrompt(query, chatHistory string, results []vector.SearchResult) []llm.Message {
	var b strings.Builder

	b.WriteString("Context:\n")
	if len(results) == 0 {
		b.WriteString("(no relevant documents found)\n")
	}
	for i, res := range results {
		title := res.Chunk.Metadata.SourceTitle
		if title == "" {
			title = res.Chunk.Metadata.DocumentKey
		}
		fmt.Fprintf(&b, "[%d] %s, page %d:\n%s\n\n", i+1, title, res.Chunk.Metadata.PageNumber, res.Chunk.Text)
	}

	if chatHistory != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(chatHistory)
		b.WriteString("\n")
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(query)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}
