package query

import (
	"fmt"
	"strings"

	"github.com/docchat/backend/internal/vector"
)

const answerSystemPrompt = `You are a document assistant. You answer questions about a single uploaded document.

Your answers must:
1. Use ONLY the supplied document context. Never add outside knowledge.
2. Cite page-level evidence, e.g. "(page 4)", for every claim.
3. Say plainly when the context does not contain the answer.

Structure every answer with these sections:
- Direct Answer: one or two sentences.
- Explanation: the reasoning, grounded in the context.
- Key Points: a short bulleted list.
- Source References: the pages relied on.
- Related Concepts: other topics from the document worth reading.`

// buildContext joins retrieved chunk texts in rank order, each headed by the
// page it came from so the model can cite it.
func buildContext(results []vector.SearchResult) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = fmt.Sprintf("[page %d]\n%s", r.Chunk.PageNumber, r.Chunk.Text)
	}
	return strings.Join(texts, "\n\n")
}

func buildUserPrompt(context, question string) string {
	return fmt.Sprintf(`Document context:
---
%s
---

Question: %s

Answer strictly from the document context above, citing pages.`, context, question)
}
