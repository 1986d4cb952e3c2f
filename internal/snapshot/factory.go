package snapshot

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Environment variables selecting the snapshot backend:
//
//	PISA_SNAPSHOT_DRIVER=fs|memory|sqlite|postgres|s3 (default fs)
//	PISA_SNAPSHOT_FS_ROOT=<dir> (fs driver, default ./snapshots)
//	PISA_SNAPSHOT_SQLITE_PATH=<file> (sqlite driver, default pisa-snapshots.db)
//	PISA_SNAPSHOT_POSTGRES_DSN=<dsn> (postgres driver)
//
// The s3 driver reads its own PISA_SNAPSHOT_S3_* variables.

// Open constructs the snapshot store named by the process environment.
func Open(ctx context.Context) (Store, error) {
	driver := strings.TrimSpace(os.Getenv("PISA_SNAPSHOT_DRIVER"))
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("PISA_SNAPSHOT_FS_ROOT"))
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return NewSQLite(os.Getenv("PISA_SNAPSHOT_SQLITE_PATH"))
	case DriverPostgres:
		return NewPostgres(ctx, os.Getenv("PISA_SNAPSHOT_POSTGRES_DSN"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", driver)
	}
}
