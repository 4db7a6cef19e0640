// Package persist abstracts where gate state records live. Each gate owns a
// single logical record keyed by name; the backend (files on disk for a
// single instance, Redis for shared deployments) is interchangeable.
package persist

// Store loads and saves one JSON-serializable record per key. Load returns
// found=false when no record exists or the stored record cannot be decoded;
// gates fall back to their zero-value state in either case.
type Store interface {
	Load(key string, v any) (found bool, err error)
	Save(key string, v any) error
}
