package transfer

import "path/filepath"

// PartSuffix marks a body that is still being written.
const PartSuffix = ".part"

// WithSuffix appends suffix to the last element of path, keeping the parent
// directory: WithSuffix("a/b.shp", ".part") == "a/b.shp.part".
func WithSuffix(path, suffix string) string {
	dir, name := filepath.Split(path)

	return filepath.Join(dir, name+suffix)
}

// PartPath returns the temporary sibling a body is streamed into.
func PartPath(destination string) string {
	return WithSuffix(destination, PartSuffix)
}
