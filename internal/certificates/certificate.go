// Package certificates renders retirement certificates as PDF documents.
package certificates

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

// ErrNothingRetired is returned for a holder whose retirement sink is empty.
var ErrNothingRetired = errors.New("no credits have been retired")

// certificateNamespace scopes certificate ids derived from ledger data.
var certificateNamespace = uuid.MustParse("6f1c2b0e-5d0a-4f4e-9a3b-2f8d9c1e7b44")

// Color is an RGB color.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Options configures certificate rendering.
type Options struct {
	PageSize    string  `json:"page_size"`
	Orientation string  `json:"orientation"`
	Issuer      string  `json:"issuer"`
	DateFormat  string  `json:"date_format"`
	FontFamily  string  `json:"font_family"`
	AccentColor Color   `json:"accent_color"`
	Margin      float64 `json:"margin"`
}

func DefaultOptions() Options {
	return Options{
		PageSize:    "A4",
		Orientation: "landscape",
		Issuer:      "Blue Carbon Registry",
		DateFormat:  "2 January 2006",
		FontFamily:  "Arial",
		AccentColor: Color{R: 0, G: 105, B: 120},
		Margin:      20,
	}
}

// ProjectLine attributes part of a retirement to a project.
type ProjectLine struct {
	ProjectID string `json:"project_id"`
	Ecosystem string `json:"ecosystem"`
	Credits   uint64 `json:"credits"`
}

// Retirement is the ledger data a certificate attests to.
type Retirement struct {
	Holder      ledger.PublicKey `json:"holder"`
	Sink        ledger.PublicKey `json:"sink"`
	Amount      uint64           `json:"amount"`
	Decimals    uint8            `json:"decimals"`
	Signature   ledger.Signature `json:"signature,omitempty"`
	Beneficiary string           `json:"beneficiary,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	IssuedAt    time.Time        `json:"issued_at"`
	Projects    []ProjectLine    `json:"projects,omitempty"`
}

// ID is stable for the same holder, sink balance and signature, so
// reissuing a certificate for unchanged ledger state yields the same id.
func (r Retirement) ID() string {
	name := fmt.Sprintf("%s/%s/%d/%s", r.Holder, r.Sink, r.Amount, r.Signature)
	return uuid.NewSHA1(certificateNamespace, []byte(name)).String()
}

// FormatAmount renders base units as a decimal tonnage with thousands
// separators.
func FormatAmount(amount uint64, decimals uint8) string {
	scale := ledger.Pow10(decimals)
	whole := strconv.FormatUint(amount/scale, 10)
	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if decimals == 0 {
		return b.String()
	}
	frac := strconv.FormatUint(amount%scale, 10)
	frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
	return b.String() + "." + frac
}

// Generator renders certificates.
type Generator struct {
	options Options
}

func NewGenerator(options Options) *Generator {
	return &Generator{options: options}
}

// Render writes the certificate for r to w.
func (g *Generator) Render(w io.Writer, r Retirement) error {
	if r.Amount == 0 {
		return ErrNothingRetired
	}
	orientation := "P"
	if g.options.Orientation == "landscape" {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", g.options.PageSize, "")
	pdf.SetMargins(g.options.Margin, g.options.Margin, g.options.Margin)
	pdf.SetAutoPageBreak(true, g.options.Margin)
	pdf.SetTitle("Certificate of Retirement", true)
	pdf.SetAuthor(g.options.Issuer, true)
	pdf.SetCreationDate(r.IssuedAt)
	g.setFooter(pdf, r)

	pdf.AddPage()
	g.addBorder(pdf)
	g.addHeading(pdf, r)
	g.addDetails(pdf, r)
	if len(r.Projects) > 0 {
		g.addProjects(pdf, r)
	}
	if pdf.Err() {
		return fmt.Errorf("render certificate: %w", pdf.Error())
	}
	return pdf.Output(w)
}

// Bytes renders the certificate into memory.
func (g *Generator) Bytes(r Retirement) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.Render(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) addBorder(pdf *gofpdf.Fpdf) {
	w, h := pdf.GetPageSize()
	c := g.options.AccentColor
	pdf.SetDrawColor(c.R, c.G, c.B)
	pdf.SetLineWidth(1.2)
	pdf.Rect(g.options.Margin/2, g.options.Margin/2, w-g.options.Margin, h-g.options.Margin, "D")
	pdf.SetLineWidth(0.2)
}

func (g *Generator) addHeading(pdf *gofpdf.Fpdf, r Retirement) {
	c := g.options.AccentColor
	pdf.SetFont(g.options.FontFamily, "B", 26)
	pdf.SetTextColor(c.R, c.G, c.B)
	pdf.CellFormat(0, 14, "Certificate of Retirement", "", 1, "C", false, 0, "")

	pdf.SetFont(g.options.FontFamily, "", 12)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 8, g.options.Issuer, "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont(g.options.FontFamily, "", 13)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, "This certifies the permanent retirement of", "", 1, "C", false, 0, "")
	pdf.SetFont(g.options.FontFamily, "B", 22)
	pdf.CellFormat(0, 12, FormatAmount(r.Amount, r.Decimals)+" tCO2e", "", 1, "C", false, 0, "")
	pdf.SetFont(g.options.FontFamily, "", 13)
	pdf.CellFormat(0, 8, "of blue carbon credits", "", 1, "C", false, 0, "")
	if r.Beneficiary != "" {
		pdf.CellFormat(0, 8, "on behalf of "+r.Beneficiary, "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)
}

func (g *Generator) addDetails(pdf *gofpdf.Fpdf, r Retirement) {
	items := [][2]string{
		{"Certificate ID", r.ID()},
		{"Holder", r.Holder.String()},
		{"Retirement account", r.Sink.String()},
		{"Issued", r.IssuedAt.Format(g.options.DateFormat)},
	}
	if !r.Signature.IsZero() {
		items = append(items, [2]string{"Transaction", r.Signature.String()})
	}
	if r.Reason != "" {
		items = append(items, [2]string{"Reason", r.Reason})
	}
	for _, item := range items {
		pdf.SetFont(g.options.FontFamily, "B", 10)
		pdf.CellFormat(50, 6, item[0]+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Courier", "", 9)
		pdf.CellFormat(0, 6, item[1], "", 1, "L", false, 0, "")
	}
}

func (g *Generator) addProjects(pdf *gofpdf.Fpdf, r Retirement) {
	pdf.Ln(6)
	c := g.options.AccentColor
	widths := []float64{70, 70, 50}
	pdf.SetFont(g.options.FontFamily, "B", 10)
	pdf.SetFillColor(c.R, c.G, c.B)
	pdf.SetTextColor(255, 255, 255)
	for i, label := range []string{"Project", "Ecosystem", "Credits"} {
		pdf.CellFormat(widths[i], 7, label, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(g.options.FontFamily, "", 10)
	pdf.SetTextColor(0, 0, 0)
	for i, p := range r.Projects {
		if i%2 == 1 {
			pdf.SetFillColor(242, 242, 242)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.CellFormat(widths[0], 6, p.ProjectID, "1", 0, "L", true, 0, "")
		pdf.CellFormat(widths[1], 6, p.Ecosystem, "1", 0, "L", true, 0, "")
		pdf.CellFormat(widths[2], 6, FormatAmount(p.Credits, r.Decimals), "1", 0, "R", true, 0, "")
		pdf.Ln(-1)
	}
}

func (g *Generator) setFooter(pdf *gofpdf.Fpdf, r Retirement) {
	pdf.SetFooterFunc(func() {
		pdf.SetY(-g.options.Margin)
		pdf.SetFont(g.options.FontFamily, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		text := fmt.Sprintf("Verify against retirement account %s on the public ledger", r.Sink)
		pdf.CellFormat(0, 6, text, "", 0, "C", false, 0, "")
	})
}
