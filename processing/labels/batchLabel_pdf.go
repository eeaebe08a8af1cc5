package labels

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/jung-kurt/gofpdf"

	"curetrack/processing/ledger"
)

// RenderBatchLabelsPDF renders one A4 landscape page per batch with the batch
// code as a Code128 barcode.
func RenderBatchLabelsPDF(views []ledger.BatchView, printedAt time.Time) ([]byte, error) {
	if len(views) == 0 {
		return nil, fmt.Errorf("no labels to render")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Batch Labels", false)
	pdf.SetAutoPageBreak(false, 0)

	for i, view := range views {
		if err := addBatchLabelPage(pdf, view, printedAt, i); err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func addBatchLabelPage(pdf *gofpdf.Fpdf, view ledger.BatchView, printedAt time.Time, pageIndex int) error {
	code := strings.TrimSpace(view.Batch.BatchCode)
	if code == "" {
		return fmt.Errorf("batch %d has no batch code", view.Batch.ID)
	}
	barcodePNG, err := renderCode128PNG(code, 1200, 260)
	if err != nil {
		return err
	}

	crop := strings.TrimSpace(view.Batch.Crop)
	if crop == "" {
		crop = "Unknown Crop"
	}
	stageText := "No stages"
	if latest := view.LatestStage; latest != nil {
		stageText = fmt.Sprintf("P%d %s (%s)", latest.Stage.ProcessingCount, latest.Stage.ProcessMethod, strings.ReplaceAll(latest.Stage.Status, "_", " "))
	}

	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()
	margin := 12.0
	pdf.SetLineWidth(0.35)
	pdf.Rect(margin, margin, pageW-2*margin, pageH-2*margin, "")

	pdf.SetY(margin + 6)
	nameFont := fitFontSizeForWidth(pdf, "Helvetica", "B", 44, 20, crop, pageW-2*margin-8)
	pdf.SetFont("Helvetica", "B", nameFont)
	pdf.CellFormat(0, 20, crop, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 28)
	pdf.CellFormat(0, 14, "LOT "+view.Batch.LotNo, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 16)
	pdf.CellFormat(0, 9, "Initial quantity: "+view.Batch.InitialBatchQuantity.StringFixed(2)+" kg", "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 9, "Current stage: "+stageText, "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 9, "Available: "+view.NetAvailableFromBatch.StringFixed(2)+" kg", "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 9, "Printed: "+printedAt.Format("02/01/2006"), "", 1, "C", false, 0, "")

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	imageName := fmt.Sprintf("batch-barcode-%d-%d", view.Batch.ID, pageIndex)
	pdf.RegisterImageOptionsReader(imageName, opt, bytes.NewReader(barcodePNG))
	imgW := 220.0
	imgH := 48.0
	x := (pageW - imgW) / 2
	y := 122.0
	pdf.ImageOptions(imageName, x, y, imgW, imgH, false, opt, 0, "")

	pdf.SetY(y + imgH + 4)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 12, code, "", 1, "C", false, 0, "")
	return nil
}

func fitFontSizeForWidth(pdf *gofpdf.Fpdf, family, style string, base, min float64, text string, maxWidth float64) float64 {
	if maxWidth <= 0 {
		return min
	}
	size := base
	pdf.SetFont(family, style, size)
	for size > min && pdf.GetStringWidth(text) > maxWidth {
		size -= 0.5
		pdf.SetFont(family, style, size)
	}
	return size
}

func renderCode128PNG(value string, width, height int) ([]byte, error) {
	code, err := code128.Encode(value)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(code, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, toNRGBA(scaled)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toNRGBA(src image.Image) *image.NRGBA {
	bounds := src.Bounds()
	dst := image.NewNRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
	return dst
}
