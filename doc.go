// Package redo retries failed function invocations until they succeed.
//
// A function wrapped with Do still fails loudly on the caller's goroutine,
// but the failure is recorded in a task store and a background worker keeps
// re-invoking the function with the original arguments until it returns nil,
// the retry budget runs out, or the task is abandoned.
//
//	counter := 0
//	flaky := redo.Do(func(n int) error {
//		counter++
//		if counter < n {
//			return fmt.Errorf("not yet")
//		}
//		return nil
//	}, redo.WithFuncForm(redo.Function))
//
//	redo.Start(false)
//	err := flaky.Call(3) // fails, and is queued for retry
//
// Non-idempotent functions are only retried when they return a RetryRequest
// carrying the arguments the retry should use:
//
//	return redo.Retry(nextToken)
//
// Stores are pluggable: the in-memory store is the default, the sqlitestore
// and redisstore subpackages persist tasks across restarts.
package redo
