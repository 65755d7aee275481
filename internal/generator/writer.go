package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Dataset file names shared by the generator and the seed command.
const (
	UsersFile           = "users.json"
	ProductsFile        = "products.json"
	AdvertisedItemsFile = "advertisedItems.json"
	ReportedItemsFile   = "reportedItems.json"
)

// WriteDataset serializes each collection of the dataset into its own file under dir.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	files := []struct {
		name string
		data any
	}{
		{UsersFile, dataset.Users},
		{ProductsFile, dataset.Products},
		{AdvertisedItemsFile, dataset.AdvertisedItems},
		{ReportedItemsFile, dataset.ReportedItems},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.name), f.data); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}
