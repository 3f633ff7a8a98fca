package model

import "strings"

// Category is the display category of an event.
type Category string

const (
	CategoryClub      Category = "club"
	CategoryEducation Category = "education"
	CategoryMedical   Category = "medical"
	CategoryMusic     Category = "music"
	CategoryOther     Category = "other"
	CategoryShopping  Category = "shopping"
	CategorySport     Category = "sport"
	CategoryVacation  Category = "vacation"
	CategoryWork      Category = "work"
	CategoryNone      Category = "none"
)

// CategoryInfo is the display text and icon asset for a category.
type CategoryInfo struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
}

var categories = map[Category]CategoryInfo{
	CategoryClub:      {Text: "Club", Icon: "icons/category/club.svg"},
	CategoryEducation: {Text: "Education", Icon: "icons/category/education.svg"},
	CategoryMedical:   {Text: "Medical", Icon: "icons/category/medical.svg"},
	CategoryMusic:     {Text: "Music", Icon: "icons/category/music.svg"},
	CategoryOther:     {Text: "Other", Icon: "icons/category/other.svg"},
	CategoryShopping:  {Text: "Shopping", Icon: "icons/category/shopping.svg"},
	CategorySport:     {Text: "Sport", Icon: "icons/category/sport.svg"},
	CategoryVacation:  {Text: "Vacation", Icon: "icons/category/vacation.svg"},
	CategoryWork:      {Text: "Work", Icon: "icons/category/work.svg"},
	CategoryNone:      {Text: "None", Icon: "icons/category/none.svg"},
}

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryClub, CategoryEducation, CategoryMedical, CategoryMusic, CategoryOther,
		CategoryShopping, CategorySport, CategoryVacation, CategoryWork, CategoryNone,
	}
}

// Normalize lower-cases c and maps unknown values to CategoryNone.
func (c Category) Normalize() Category {
	n := Category(strings.ToLower(strings.TrimSpace(string(c))))
	if _, ok := categories[n]; ok {
		return n
	}
	return CategoryNone
}

func (c Category) Info() CategoryInfo {
	return categories[c.Normalize()]
}
