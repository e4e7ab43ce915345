package drdb

import "context"

// Repository supplies the immutable record collections of a snapshot version.
// Implementations return ErrUnknownVersion for versions they cannot serve and
// a DataIntegrityError for malformed records.
type Repository interface {
	Versions(ctx context.Context) ([]string, error)
	LastUpdate(ctx context.Context, version string) (string, error)
	LoadArticles(ctx context.Context, version string) ([]*Article, error)
	LoadVariants(ctx context.Context, version string) ([]*Variant, error)
	LoadIsolates(ctx context.Context, version string) ([]*Isolate, error)
	LoadAntibodies(ctx context.Context, version string) ([]*Antibody, error)
	LoadSuscRecords(ctx context.Context, version string, family Family) ([]*SuscRecord, error)
}
