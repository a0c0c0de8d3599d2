package storage

import (
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// ResultRow is the flat parquet form of an Entry
type ResultRow struct {
	Digest    string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status    string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	SFEN      string `parquet:"name=sfen, type=BYTE_ARRAY, convertedtype=UTF8"`
	Moves     string `parquet:"name=moves, type=BYTE_ARRAY, convertedtype=UTF8"`
	MoveCount int32  `parquet:"name=move_count, type=INT32"`
	Width     int32  `parquet:"name=width, type=INT32"`
	Height    int32  `parquet:"name=height, type=INT32"`
	ElapsedMs int64  `parquet:"name=elapsed_ms, type=INT64"`
	Timestamp int64  `parquet:"name=timestamp, type=INT64"`
}

// NewResultRow flattens an entry; the mating line is space separated
func NewResultRow(e Entry) ResultRow {
	return ResultRow{
		Digest:    e.Digest,
		Status:    e.Status,
		SFEN:      e.SFEN,
		Moves:     strings.Join(e.Moves, " "),
		MoveCount: int32(len(e.Moves)),
		Width:     int32(e.Width),
		Height:    int32(e.Height),
		ElapsedMs: e.ElapsedMs,
		Timestamp: e.Timestamp,
	}
}

// ExportParquet writes every stored entry to a snappy-compressed parquet
// file at path and returns the number of rows written
func ExportParquet(store *ResultStore, path string, parallel int64) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("no result store")
	}
	if parallel < 1 {
		parallel = 1
	}

	fileWriter, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer fileWriter.Close()

	parquetWriter, err := writer.NewParquetWriter(fileWriter, new(ResultRow), parallel)
	if err != nil {
		return 0, err
	}
	parquetWriter.CompressionType = parquet.CompressionCodec_SNAPPY

	rows := 0
	err = store.ForEach(func(e Entry) error {
		if err := parquetWriter.Write(NewResultRow(e)); err != nil {
			return err
		}
		rows++
		return nil
	})
	if err != nil {
		return rows, fmt.Errorf("failed to write rows: %w", err)
	}
	if err := parquetWriter.WriteStop(); err != nil {
		return rows, err
	}
	return rows, fileWriter.Close()
}
