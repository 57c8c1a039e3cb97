package store

import "strings"

// KeyBuilder builds storage keys according to our naming convention:
// namespace:context:entity[:attribute].
type KeyBuilder struct {
	namespace string
	context   string
}

// NewKeyBuilder creates a new KeyBuilder with the given namespace.
func NewKeyBuilder(namespace, context string) *KeyBuilder {
	return &KeyBuilder{
		namespace: strings.ToLower(namespace),
		context:   strings.ToLower(context),
	}
}

// Build creates a key following our naming convention.
func (kb *KeyBuilder) Build(entity, attribute string) string {
	parts := []string{
		kb.namespace,
		kb.context,
		strings.ToLower(entity),
	}
	if attribute != "" {
		parts = append(parts, strings.ToLower(attribute))
	}
	return strings.Join(parts, ":")
}

// BuildPattern creates a key pattern for searching.
func (kb *KeyBuilder) BuildPattern(entity, pattern string) string {
	if pattern == "" {
		pattern = "*"
	}
	return strings.Join([]string{kb.namespace, kb.context, strings.ToLower(entity), pattern}, ":")
}
