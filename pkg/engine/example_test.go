package engine_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alphapipe/alphapipe/pkg/calendar"
	"github.com/alphapipe/alphapipe/pkg/engine"
	"github.com/alphapipe/alphapipe/pkg/loader"
	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// Example builds a one-output pipeline over an in-memory price source and
// prints the assembled rows as CSV.
func Example() {
	cal := calendar.NewWeekday(
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.January, 12, 0, 0, 0, 0, time.UTC))

	prices := make([]float64, cal.Len())
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {"ACME": prices},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	sma, err := pipeline.SMA(pipeline.Close, 3)
	if err != nil {
		fmt.Println(err)
		return
	}

	p := engine.NewPipeline()
	if err := p.Add("sma3", sma); err != nil {
		fmt.Println(err)
		return
	}

	sessions := cal.Sessions()
	result, err := engine.New().Run(context.Background(), p, cal,
		sessions[4], sessions[5], []string{"ACME"}, src)
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := result.WriteCSV(os.Stdout); err != nil {
		fmt.Println(err)
	}

	// Output:
	// date,asset,sma3
	// 2024-01-05,ACME,103
	// 2024-01-08,ACME,104
}
