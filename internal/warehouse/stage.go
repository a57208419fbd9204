package warehouse

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	sf "github.com/snowflakedb/gosnowflake"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
)

// StageFiles moves files between the local machine and a stage.
type StageFiles interface {
	// Put uploads r to stagePath (@stage/dir/file), without compression.
	Put(ctx context.Context, r io.Reader, stagePath string, overwrite bool) error

	// Get streams the staged file at stagePath into w.
	Get(ctx context.Context, stagePath string, w io.Writer) error
}

// StagePath joins a stage name and path elements into @stage/a/b.
func StagePath(stage string, elem ...string) string {
	stage = strings.TrimPrefix(stage, "@")
	if len(elem) == 0 {
		return "@" + stage
	}
	return "@" + stage + "/" + path.Join(elem...)
}

// SplitStagePath splits @stage/dir/file into @stage/dir and file.
func SplitStagePath(stagePath string) (dir, file string, err error) {
	if !strings.HasPrefix(stagePath, "@") {
		return "", "", apperrors.Validation("stage_path", fmt.Sprintf("stage path %q must start with @", stagePath))
	}
	i := strings.LastIndex(stagePath, "/")
	if i < 0 || i == len(stagePath)-1 {
		return "", "", apperrors.Validation("stage_path", fmt.Sprintf("stage path %q does not name a file", stagePath))
	}
	return stagePath[:i], stagePath[i+1:], nil
}

// Put implements StageFiles using a PUT statement fed from a stream.
func (s *Session) Put(ctx context.Context, r io.Reader, stagePath string, overwrite bool) error {
	return Put(ctx, s.db, r, stagePath, overwrite)
}

// Get implements StageFiles using a GET statement written to a stream.
func (s *Session) Get(ctx context.Context, stagePath string, w io.Writer) error {
	return Get(ctx, s.db, stagePath, w)
}

// Put uploads r to stagePath through db.
func Put(ctx context.Context, db Querier, r io.Reader, stagePath string, overwrite bool) error {
	dir, file, err := SplitStagePath(stagePath)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("PUT %s %s AUTO_COMPRESS=FALSE OVERWRITE=%s",
		QuoteLiteral("file:///"+file), QuoteLiteral(dir), strings.ToUpper(fmt.Sprint(overwrite)))
	if _, err := db.ExecContext(sf.WithFileStream(ctx, r), query); err != nil {
		return fmt.Errorf("failed to upload %s: %w", stagePath, err)
	}
	return nil
}

// Get streams the staged file at stagePath into w through db.
func Get(ctx context.Context, db Querier, stagePath string, w io.Writer) error {
	if _, _, err := SplitStagePath(stagePath); err != nil {
		return err
	}

	// The driver requires a local target even when writing to a stream.
	query := fmt.Sprintf("GET %s %s", QuoteLiteral(stagePath), QuoteLiteral("file:///tmp/"))
	if _, err := db.ExecContext(sf.WithFileGetStream(ctx, w), query); err != nil {
		return fmt.Errorf("failed to download %s: %w", stagePath, err)
	}
	return nil
}
