package link

import "fmt"

// Run drives the full pipeline over a set of input object buffers and
// stages the resulting executable at outputPath: aggregate, allocate,
// write, relocate, stage (spec.md §5). Each stage is fatal on error;
// there is no partial-output recovery.
func Run(buffers [][]byte, outputPath string) error {
	in, err := Aggregate(buffers)
	if err != nil {
		return fmt.Errorf("aggregating inputs: %w", err)
	}

	out, err := Allocate(in)
	if err != nil {
		return fmt.Errorf("allocating layout: %w", err)
	}

	image, err := WriteImage(out)
	if err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	if err := ApplyRelocations(out, image); err != nil {
		return fmt.Errorf("applying relocations: %w", err)
	}

	if err := Stage(outputPath, image); err != nil {
		return fmt.Errorf("staging output: %w", err)
	}

	return nil
}
