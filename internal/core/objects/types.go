package objects

// ObjectType represents the type of a git object: the concrete types a
// fully reconstructed object (packed or loose) carries, per spec.md §3.
// The object graph that used to decode these into typed Blob/Tree/Commit/Tag
// structs sat outside the object-access core (spec.md §1's Non-goals: "these
// are thin decoders over the byte stream produced by the core") and was
// never wired into any operation here, so only the type tag itself remains.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

// IsValid returns true if the object type is valid
func (t ObjectType) IsValid() bool {
	switch t {
	case TypeBlob, TypeTree, TypeCommit, TypeTag:
		return true
	default:
		return false
	}
}
