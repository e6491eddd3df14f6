// Package processor holds the registry that maps tool slugs to processing
// functions and the Result type processors report their outcome with.
//
// The registry is an ordinary value built at startup and passed to the
// runner and the queue layer; there is no package-level registry:
//
//	reg := processor.NewRegistry()
//	_ = processor.RegisterDefinition(reg, processor.NewDefinition("word-count",
//	    func(ctx context.Context, in Document) (Counts, error) {
//	        return count(in.Text), nil
//	    },
//	))
//
// Untyped processors implement [Func] directly and return [Succeed] or
// [Fail].
package processor
