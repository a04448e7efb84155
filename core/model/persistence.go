package model

import (
	"encoding/gob"
	"io"
	"path/filepath"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/spf13/afero"
)

// SaveGob はvalueをgob形式でファイルに保存する
//
// 一時ファイルに書き込んでからリネームするため、途中で中断しても
// 既存のファイルが壊れることはありません。
//
// 使用例:
//
//	err := model.SaveGob(afero.NewOsFs(), "checkpoints/ckpt-3.gob", snapshot)
func SaveGob(fs afero.Fs, filename string, value interface{}) error {
	if err := fs.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filename)
	}

	tmp := filename + ".tmp"
	file, err := fs.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	if err := SaveModelToWriter(value, file); err != nil {
		_ = file.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = fs.Remove(tmp)
		return errors.Wrap(err, "failed to close file")
	}
	return errors.WithStack(fs.Rename(tmp, filename))
}

// LoadGob はgob形式のファイルからvalueを読み込む
//
// 使用例:
//
//	var snap neural.Snapshot
//	err := model.LoadGob(fs, path, &snap)
func LoadGob(fs afero.Fs, filename string, value interface{}) error {
	file, err := fs.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()
	return LoadModelFromReader(value, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(value interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(value); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(value interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(value); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
