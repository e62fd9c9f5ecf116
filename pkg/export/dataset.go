package export

import "fmt"

// Dataset defines tabular export content. Every row holds one value per header.
type Dataset struct {
	Title   string
	Notes   []string
	Headers []string
	Rows    [][]string
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("dataset requires at least one header")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Headers) {
			return fmt.Errorf("row %d has %d values, want %d", i+1, len(row), len(d.Headers))
		}
	}
	return nil
}
