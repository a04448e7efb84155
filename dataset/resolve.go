package dataset

import (
	"os"
	"sort"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/mattn/go-zglob"
)

// Resolve はグロブパターン（** を含む）を展開し、ソート済みのシャード一覧を返します。
// 一致するファイルが無い場合は ErrNoShards を返します。
func Resolve(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, errors.NewValidationError("pattern", "must not be empty", pattern)
	}

	matches, err := zglob.Glob(pattern)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "resolve %q", pattern)
	}

	shards := matches[:0]
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, errors.Wrapf(err, "stat shard %q", m)
		}
		if info.Mode().IsRegular() {
			shards = append(shards, m)
		}
	}
	if len(shards) == 0 {
		return nil, errors.Wrapf(errors.ErrNoShards, "%q", pattern)
	}

	sort.Strings(shards)
	return shards, nil
}
