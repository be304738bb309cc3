package summarize

import "fmt"

func summaryPrompt(text string) string {
	return fmt.Sprintf(`Imagine you are the CEO of a company and you need to read through the newsletters in your inbox to stay updated about market trends and businesses.
Please provide an intelligent summary of the following text with key points that can be used to make informed decisions. Write in bullet points:
TEXT: %s
SUMMARY:`, text)
}

func refinePrompt(summary, text string) string {
	return fmt.Sprintf(`Below is an existing bullet point summary followed by additional text delimited by triple backquotes.
Refine the summary so it also covers the key points of the additional text. Return only the refined bullet points.
EXISTING SUMMARY:
%s
`+"```%s```"+`
BULLET POINT SUMMARY:`, summary, text)
}
