package mealplan

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/mealplanhq/mealplan/internal/store"
)

const (
	marginMM  = 20.0
	lineMM    = 6.0
	bandMM    = 35.0
	blockRoom = 45.0
)

var teal = [3]int{0, 150, 136}

// Render draws the plan as an A4 PDF: a cover with the nutrition targets, the
// daily calendar, recipe cards for personalized plans, the weekly shopping
// lists and the prep guide.
func Render(p *Plan) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)
	pdf.SetTitle(p.Title, false)
	pdf.SetCreator("mealplan", false)
	pdf.AliasNbPages("")

	r := &renderer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	r.pageW, r.pageH = pdf.GetPageSize()
	pdf.SetFooterFunc(r.footer)

	r.cover(p)
	r.calendar(p)
	if len(p.Recipes) > 0 {
		r.recipeCards(p)
	}
	if weeks := p.Weeks(); len(weeks) > 0 {
		r.shoppingLists(p, weeks)
	}
	if p.MealPrepGuide != nil {
		r.prepGuide(p.MealPrepGuide)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type renderer struct {
	pdf          *fpdf.Fpdf
	tr           func(string) string
	pageW, pageH float64
}

func (r *renderer) contentWidth() float64 { return r.pageW - 2*marginMM }

func (r *renderer) footer() {
	r.pdf.SetY(-15)
	r.pdf.SetFont("Helvetica", "", 9)
	r.pdf.SetTextColor(128, 128, 128)
	r.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", r.pdf.PageNo()), "", 0, "C", false, 0, "")
	r.pdf.SetTextColor(0, 0, 0)
}

func (r *renderer) band(title, subtitle string) {
	r.pdf.SetFillColor(teal[0], teal[1], teal[2])
	r.pdf.Rect(0, 0, r.pageW, bandMM, "F")
	r.pdf.SetTextColor(255, 255, 255)
	r.pdf.SetFont("Helvetica", "B", 22)
	r.pdf.SetXY(0, 9)
	r.pdf.CellFormat(r.pageW, 10, r.tr(title), "", 1, "C", false, 0, "")
	if subtitle != "" {
		r.pdf.SetFont("Helvetica", "", 12)
		r.pdf.CellFormat(r.pageW, 8, r.tr(subtitle), "", 1, "C", false, 0, "")
	}
	r.pdf.SetTextColor(0, 0, 0)
	r.pdf.SetY(bandMM + 10)
}

func (r *renderer) heading(text string) {
	r.pdf.SetFont("Helvetica", "B", 16)
	r.pdf.CellFormat(0, 10, r.tr(text), "", 1, "L", false, 0, "")
	r.pdf.Ln(2)
}

func (r *renderer) bar(text string) {
	r.pdf.SetFillColor(teal[0], teal[1], teal[2])
	r.pdf.SetTextColor(255, 255, 255)
	r.pdf.SetFont("Helvetica", "B", 12)
	r.pdf.CellFormat(r.contentWidth(), 8, " "+r.tr(text), "", 1, "L", true, 0, "")
	r.pdf.SetTextColor(0, 0, 0)
	r.pdf.Ln(2)
}

func (r *renderer) text(style string, size float64, s string) {
	r.pdf.SetFont("Helvetica", style, size)
	r.pdf.MultiCell(r.contentWidth(), lineMM, r.tr(s), "", "L", false)
}

func (r *renderer) bullet(s string) {
	r.pdf.SetFont("Helvetica", "", 10)
	r.pdf.SetX(marginMM + 4)
	r.pdf.MultiCell(r.contentWidth()-4, 5, r.tr("• "+s), "", "L", false)
}

// ensureRoom starts a new page when less than h millimetres remain.
func (r *renderer) ensureRoom(h float64) {
	if r.pdf.GetY()+h > r.pageH-marginMM {
		r.pdf.AddPage()
	}
}

func (r *renderer) cover(p *Plan) {
	r.pdf.AddPage()
	subtitle := "Your monthly meal plan"
	if p.IsPersonalized {
		subtitle = "Personalized meal plan"
	}
	r.band(p.Title, subtitle)

	if p.PreparedFor != "" {
		r.text("B", 13, "Prepared for: "+p.PreparedFor)
		r.pdf.Ln(2)
	}
	if p.Description != "" {
		r.text("", 11, p.Description)
		r.pdf.Ln(4)
	}
	if p.FamilySize > 0 {
		r.text("", 11, fmt.Sprintf("Recipes scaled for %d servings.", p.FamilySize))
		r.pdf.Ln(4)
	}

	if t := p.NutritionTargets; t != nil {
		r.bar("Nutrition Targets")
		if t.DailyCalories != "" {
			r.bullet("Daily calories: " + t.DailyCalories)
		}
		for _, k := range []string{"protein", "carbs", "fats"} {
			if v, ok := t.Macros[k]; ok {
				r.bullet(fmt.Sprintf("%s: %s", strings.ToUpper(k[:1])+k[1:], v))
			}
		}
		for _, n := range t.Notes {
			r.bullet(n)
		}
	}
}

func (r *renderer) calendar(p *Plan) {
	days := p.Days()
	if len(days) == 0 {
		return
	}
	r.pdf.AddPage()
	r.heading("Daily Meals")

	for _, nd := range days {
		r.ensureRoom(blockRoom)
		label := fmt.Sprintf("Day %d", nd.Number)
		if nd.Day.Date != "" {
			label += "  " + nd.Day.Date
		}
		r.bar(label)
		if nd.Day.FastingPeriod != "" {
			r.text("I", 9, "Fasting: "+nd.Day.FastingPeriod)
		}
		r.mealLine("Breakfast", nd.Day.Breakfast)
		r.mealLine("Lunch", nd.Day.Lunch)
		r.mealLine("Dinner", nd.Day.Dinner)
		for i := range nd.Day.Snacks {
			r.mealLine("Snack", &nd.Day.Snacks[i])
		}
		if nd.Day.TotalCalories > 0 {
			r.text("I", 9, fmt.Sprintf("Total: %d kcal", nd.Day.TotalCalories))
		}
		r.pdf.Ln(3)
	}
}

func (r *renderer) mealLine(label string, m *Meal) {
	if m == nil {
		return
	}
	var extra []string
	if m.Time != "" {
		extra = append(extra, m.Time)
	}
	if m.Calories > 0 {
		extra = append(extra, fmt.Sprintf("%d kcal", m.Calories))
	}
	if m.Protein != "" {
		extra = append(extra, m.Protein+" protein")
	}
	if m.PrepTime != "" {
		extra = append(extra, m.PrepTime)
	}

	r.pdf.SetFont("Helvetica", "B", 10)
	r.pdf.CellFormat(25, 5, r.tr(label+":"), "", 0, "L", false, 0, "")
	r.pdf.SetFont("Helvetica", "", 10)
	line := m.Name
	if len(extra) > 0 {
		line += " (" + strings.Join(extra, ", ") + ")"
	}
	r.pdf.MultiCell(r.contentWidth()-25, 5, r.tr(line), "", "L", false)
}

func (r *renderer) recipeCards(p *Plan) {
	r.pdf.AddPage()
	r.heading("Recipes")

	for _, rec := range p.Recipes {
		r.ensureRoom(60)
		r.bar(rec.Name)
		var meta []string
		if rec.PrepTime > 0 {
			meta = append(meta, fmt.Sprintf("Prep: %d min", rec.PrepTime))
		}
		if rec.CookTime > 0 {
			meta = append(meta, fmt.Sprintf("Cook: %d min", rec.CookTime))
		}
		if rec.Servings > 0 {
			meta = append(meta, fmt.Sprintf("Serves: %d", rec.Servings))
		}
		if rec.Difficulty != "" {
			meta = append(meta, rec.Difficulty)
		}
		if len(meta) > 0 {
			r.text("", 10, strings.Join(meta, " | "))
		}
		if n := rec.Nutrition; n != nil {
			r.text("I", 9, fmt.Sprintf("Calories: %.0f | Protein: %.0fg | Carbs: %.0fg | Fat: %.0fg | Fiber: %.0fg",
				n.Calories, n.Protein, n.Carbs, n.Fat, n.Fiber))
		}
		if rec.Description != "" {
			r.pdf.Ln(1)
			r.text("", 10, rec.Description)
		}

		if len(rec.Ingredients) > 0 {
			r.pdf.Ln(2)
			r.text("B", 11, "Ingredients")
			for _, ing := range rec.Ingredients {
				r.bullet(ingredientLine(ing))
			}
		}
		if len(rec.Instructions) > 0 {
			r.pdf.Ln(2)
			r.text("B", 11, "Instructions")
			for _, step := range rec.Instructions {
				r.bullet(fmt.Sprintf("%d. %s", step.StepNumber, step.Text))
			}
		}
		r.pdf.Ln(4)
	}
}

func ingredientLine(ing store.Ingredient) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{ing.Amount, ing.Unit, ing.Item} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	line := strings.Join(parts, " ")
	if ing.Notes != "" {
		line += " (" + ing.Notes + ")"
	}
	return line
}

func (r *renderer) shoppingLists(p *Plan, weeks []int) {
	for _, w := range weeks {
		list, _ := p.ShoppingList(w)
		r.pdf.AddPage()
		r.heading(fmt.Sprintf("Week %d Shopping List", w))
		for _, sec := range list.Sections {
			r.ensureRoom(20)
			r.pdf.SetFillColor(245, 245, 245)
			r.pdf.SetFont("Helvetica", "B", 12)
			r.pdf.CellFormat(r.contentWidth(), 8, " "+r.tr(sec.Name), "", 1, "L", true, 0, "")
			r.pdf.Ln(1)
			for _, it := range sec.Items {
				r.bullet(it.String())
			}
			r.pdf.Ln(3)
		}
		if list.EstimatedCost != "" {
			r.text("B", 12, "Estimated cost: "+list.EstimatedCost)
		}
	}
}

func (r *renderer) prepGuide(g *PrepGuide) {
	r.pdf.AddPage()
	r.heading("Weekly Meal Prep Guide")
	if len(g.Sunday) > 0 {
		r.bar("Sunday Prep")
		for _, tip := range g.Sunday {
			r.bullet(tip)
		}
		r.pdf.Ln(3)
	}
	if len(g.Wednesday) > 0 {
		r.bar("Midweek Refresh")
		for _, tip := range g.Wednesday {
			r.bullet(tip)
		}
		r.pdf.Ln(3)
	}
	if g.TimeEstimate != "" {
		r.text("I", 10, "Time needed: "+g.TimeEstimate)
	}
}
