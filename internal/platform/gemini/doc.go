// Package gemini implements provider.Provider on top of Google's Gemini API
// using the google.golang.org/genai client. It renders the shared prompt for
// a request, asks for a JSON response and reports token usage from the
// response metadata. API failures are translated into provider.Error so
// the resilience wrapper can tell transient failures from permanent ones.
package gemini
