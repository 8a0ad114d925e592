package tesseract

import (
	"log/slog"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr"
)

// Open builds the engine selected by cfg.Engine. The returned func releases
// it and is never nil on success.
func Open(cfg common.OCRConfig, logger *slog.Logger) (ocr.Engine, func() error, error) {
	base := ocr.Config{Languages: cfg.Languages, TessdataDir: cfg.TessdataDir}
	switch cfg.Engine {
	case "", common.OCREngineCLI:
		return ocr.NewCLIEngine(base, logger), func() error { return nil }, nil
	case common.OCREngineGosseract:
		e, err := New(base, logger)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	default:
		return nil, nil, common.InvalidInputf("unknown OCR engine %q", cfg.Engine)
	}
}
