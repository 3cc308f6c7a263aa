package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/knncache/native/flat"
)

type buildFlags struct {
	out         string
	input       string
	dim         int
	count       int
	seed        uint64
	compression string
}

func newBuildCmd() *cobra.Command {
	var f buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Write a flat graph file from JSON documents or random vectors",
		RunE: func(*cobra.Command, []string) error {
			return build(f)
		},
	}

	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output graph file (.knnf)")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", `JSON file of [{"id": 1, "vector": [...]}]; random vectors when empty`)
	cmd.Flags().IntVar(&f.dim, "dim", 128, "dimension of random vectors")
	cmd.Flags().IntVar(&f.count, "count", 10000, "number of random vectors")
	cmd.Flags().Uint64Var(&f.seed, "seed", 42, "seed for random vectors")
	cmd.Flags().StringVar(&f.compression, "compression", "zstd", "vector block compression: none, lz4 or zstd")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

type jsonDocument struct {
	ID     uint32    `json:"id"`
	Vector []float32 `json:"vector"`
}

func build(f buildFlags) error {
	c, err := flat.ParseCompression(f.compression)
	if err != nil {
		return err
	}

	var docs []flat.Document
	if f.input != "" {
		docs, err = readDocuments(f.input)
		if err != nil {
			return err
		}
	} else {
		docs = randomDocuments(f.count, f.dim, f.seed)
	}

	if err := flat.WriteFile(f.out, docs, c); err != nil {
		return err
	}

	fi, err := os.Stat(f.out)
	if err != nil {
		return err
	}
	showSuccess("wrote %s: %d vectors, %s", f.out, len(docs), humanize.IBytes(uint64(fi.Size())))
	return nil
}

func readDocuments(path string) ([]flat.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var in []jsonDocument
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	docs := make([]flat.Document, len(in))
	for i, d := range in {
		docs[i] = flat.Document{ID: d.ID, Vector: d.Vector}
	}
	return docs, nil
}

func randomDocuments(count, dim int, seed uint64) []flat.Document {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	docs := make([]flat.Document, count)
	for i := range docs {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		docs[i] = flat.Document{ID: uint32(i), Vector: vec}
	}
	return docs
}
