package oracle

import "fmt"

const promptTemplate = `You are monitoring a live technical interview and must decide whether the candidate has finished answering the current question.

QUESTION: %s

FULL ANSWER SO FAR: %s

LATEST TRANSCRIPT: %s

Reply COMPLETE when:
- the full answer makes at least one valid point about the core concept, even briefly
- the latest transcript is short or empty and the full answer already stands on its own
- both texts read like a finished thought

Reply WAIT when:
- the latest transcript stops mid-sentence or ends in a filler such as "um", "uh", "and", "so"
- the candidate is clearly still adding to the answer
- the answer so far is unrelated to the question

Reply with exactly one word, COMPLETE or WAIT.`

func BuildPrompt(req Request) string {
	return fmt.Sprintf(promptTemplate, req.Question, req.FullAnswer, req.Interim)
}
