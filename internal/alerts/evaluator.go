package alerts

// Evaluate runs a predicate against bound inputs. A nil predicate triggers
// unconditionally. Evaluate has no side effects.
func Evaluate(pred Predicate, b Bindings) (bool, error) {
	if pred == nil {
		return true, nil
	}
	return pred.Evaluate(b)
}
