package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yeisme/panvault/pkg/internal/types"
)

func TestDetectFileType(t *testing.T) {
	cases := map[string]struct {
		ft  types.FileType
		cat types.FileCategory
	}{
		"movie.MP4":    {types.FileTypeVideo, types.CategoryVideo},
		"song.flac":    {types.FileTypeMusic, types.CategoryMusic},
		"a.b.png":      {types.FileTypeImage, types.CategoryImage},
		"report.docx":  {types.FileTypeWord, types.CategoryDoc},
		"notes.txt":    {types.FileTypeText, types.CategoryDoc},
		"main.go":      {types.FileTypeCode, types.CategoryOthers},
		"backup.tgz":   {types.FileTypeZip, types.CategoryOthers},
		"README":       {types.FileTypeOthers, types.CategoryOthers},
		"weird.xyz123": {types.FileTypeOthers, types.CategoryOthers},
	}

	for name, want := range cases {
		ft := types.DetectFileType(name)
		assert.Equal(t, want.ft, ft, name)
		assert.Equal(t, want.cat, ft.Category(), name)
	}
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "ready", types.FileStatusReady.String())
	assert.Equal(t, "recycled", types.DelFlagRecycled.String())
	assert.Equal(t, "unknown", types.DelFlag(9).String())
}
