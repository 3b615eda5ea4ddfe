package llm

import (
	"context"
	"time"
)

// GenerateWithTimeout issues one request bounded by timeout. The request runs in
// its own goroutine and is abandoned, not awaited, once the deadline passes.
// A timeout is reported as a retryable *Error of type ErrorTypeTimeout.
func GenerateWithTimeout(
	ctx context.Context,
	client LLMClient,
	timeout time.Duration,
	prompt string,
	systemMessage string,
	temperature float64,
) (*GenerateResponseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *GenerateResponseResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := client.GenerateResponse(ctx, prompt, systemMessage, temperature)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, ClassifyError(o.err)
		}
		return o.result, nil
	case <-ctx.Done():
		return nil, NewErrorWithContext(ErrorTypeTimeout, "request timeout", true, ctx.Err(),
			client.GetModel(), client.GetEndpoint(), 0)
	}
}
