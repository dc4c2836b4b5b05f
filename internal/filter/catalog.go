// Package filter holds the checkbox catalogue and the per-session set of active
// filter labels that are appended to each question.
package filter

// Option is one checkbox. Display is what the user sees; Label is the text
// appended to the question when the box is ticked.
type Option struct {
	Display string `json:"display"`
	Label   string `json:"label"`
}

// Group is a titled block of checkboxes.
type Group struct {
	Name    string   `json:"name"`
	Options []Option `json:"options"`
}

var catalog = []Group{
	{Name: "Price", Options: []Option{
		{"-$ Inexpensive", "price level inexpensive"},
		{"-$$ Moderate", "price level moderate"},
		{"-$$$ Expensive", "price level expensive"},
	}},
	{Name: "Dining Options", Options: []Option{
		{"Dine-in", "Dine-in"},
		{"Takeout", "Takeout"},
		{"Delivery", "Delivery"},
		{"Curbside Pickup", "Curbside Pickup"},
	}},
	{Name: "Dietary Preferences", Options: []Option{
		{"Vegetarian", "Vegetarian"},
		{"Vegan", "Vegan"},
		{"Gluten-Free", "Gluten-Free"},
	}},
	{Name: "Atmosphere", Options: []Option{
		{"Kid-Friendly", "good for children"},
		{"Pet-Friendly", "allows dogs"},
		{"Sports Bar", "good for watching sports"},
		{"Live Music", "Live Music"},
		{"Large Groups", "good for groups"},
	}},
	{Name: "Essential Information", Options: []Option{
		{"Accessibility", "Accessibility"},
		{"Parking", "Parking"},
	}},
}

// Catalog returns a copy of the checkbox groups in display order.
func Catalog() []Group {
	out := make([]Group, len(catalog))
	for i, g := range catalog {
		out[i] = Group{Name: g.Name, Options: append([]Option(nil), g.Options...)}
	}
	return out
}

// Resolve maps a checkbox display name or a label to its label.
func Resolve(name string) (string, bool) {
	for _, g := range catalog {
		for _, o := range g.Options {
			if o.Display == name || o.Label == name {
				return o.Label, true
			}
		}
	}
	return "", false
}
