package stage

// Result is the outcome of one stage: either a value or a stage error.
type Result[T any] struct {
	Value T
	Err   *Error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a failure of stageName.
func Fail[T any](stageName string, err error) Result[T] {
	return Result[T]{Err: Classify(stageName, err)}
}

// From builds a result from a conventional (value, error) pair.
func From[T any](stageName string, v T, err error) Result[T] {
	if err != nil {
		return Fail[T](stageName, err)
	}
	return Ok(v)
}

// OK reports whether the stage succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}
