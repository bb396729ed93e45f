package flatvec_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/flatvec"
	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/metadata"
	"github.com/hupe1980/flatvec/wal"
)

func Example() {
	dir, err := os.MkdirTemp("", "flatvec-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	s, err := flatvec.Open(ctx, filepath.Join(dir, "docs.wal"),
		flatvec.Create(2, distance.MetricEuclidean),
		flatvec.WithDurability(wal.DurabilityAsync),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	for _, rec := range []flatvec.Record{
		{ID: 1, Text: "origin", Vector: []float64{0, 0}},
		{ID: 2, Text: "far", Vector: []float64{3, 4}},
		{ID: 3, Text: "near", Vector: []float64{1, 1}},
	} {
		if _, err := s.Insert(ctx, rec); err != nil {
			log.Fatal(err)
		}
	}

	results, err := s.Search(ctx, []float64{0, 0}, 2)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range results {
		fmt.Printf("%d %s %.4f\n", r.ID, r.Text, r.Score)
	}
	// Output:
	// 1 origin 0.0000
	// 3 near 1.4142
}

func ExampleWithFilter() {
	dir, err := os.MkdirTemp("", "flatvec-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	s, err := flatvec.Open(ctx, filepath.Join(dir, "docs.wal"), flatvec.Create(2, distance.MetricCosine))
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	for i, year := range []int64{2019, 2021, 2023} {
		rec := flatvec.Record{
			ID:       int64(i + 1),
			Vector:   []float64{1, float64(i)},
			Metadata: metadata.Document{"year": metadata.Int(year)},
		}
		if _, err := s.Insert(ctx, rec); err != nil {
			log.Fatal(err)
		}
	}

	filter, err := metadata.ParseFilter(map[string]any{"year": map[string]any{"$gte": 2021}})
	if err != nil {
		log.Fatal(err)
	}
	results, err := s.Search(ctx, []float64{1, 0}, 10, flatvec.WithFilter(filter))
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range results {
		year, _ := r.Metadata["year"].AsInt64()
		fmt.Println(r.ID, year)
	}
	// Output:
	// 2 2021
	// 3 2023
}
