package model

// Character is one flattened row of the characters snapshot.
type Character struct {
	ID        int64  `json:"id" db:"id" bson:"_id"`
	Name      string `json:"name" db:"name" bson:"name"`
	BirthYear string `json:"birth_year" db:"birth_year" bson:"birth_year"`
	EyeColor  string `json:"eye_color" db:"eye_color" bson:"eye_color"`
	Gender    string `json:"gender" db:"gender" bson:"gender"`
	HairColor string `json:"hair_color" db:"hair_color" bson:"hair_color"`
	Mass      string `json:"mass" db:"mass" bson:"mass"`
	SkinColor string `json:"skin_color" db:"skin_color" bson:"skin_color"`
	Homeworld string `json:"homeworld" db:"homeworld" bson:"homeworld"`
	Films     string `json:"films" db:"films" bson:"films"`
	Species   string `json:"species" db:"species" bson:"species"`
	Starships string `json:"starships" db:"starships" bson:"starships"`
	Vehicles  string `json:"vehicles" db:"vehicles" bson:"vehicles"`
}

// FieldKind tells the assembler how a property is read and defaulted.
type FieldKind int

const (
	// ScalarField is copied as text, "" when absent.
	ScalarField FieldKind = iota
	// ReferenceField holds one URL that resolves to a label.
	ReferenceField
	// ReferenceListField holds a list of URLs joined into one label string.
	ReferenceListField
)

// Field describes one persisted property of a Character.
type Field struct {
	Name string
	Kind FieldKind
	Set  func(c *Character, value string)
}

// CharacterFields is the single source of truth for property names, kinds and
// where each one lands on the Character.
var CharacterFields = []Field{
	{Name: "name", Kind: ScalarField, Set: func(c *Character, v string) { c.Name = v }},
	{Name: "birth_year", Kind: ScalarField, Set: func(c *Character, v string) { c.BirthYear = v }},
	{Name: "eye_color", Kind: ScalarField, Set: func(c *Character, v string) { c.EyeColor = v }},
	{Name: "gender", Kind: ScalarField, Set: func(c *Character, v string) { c.Gender = v }},
	{Name: "hair_color", Kind: ScalarField, Set: func(c *Character, v string) { c.HairColor = v }},
	{Name: "mass", Kind: ScalarField, Set: func(c *Character, v string) { c.Mass = v }},
	{Name: "skin_color", Kind: ScalarField, Set: func(c *Character, v string) { c.SkinColor = v }},
	{Name: "homeworld", Kind: ReferenceField, Set: func(c *Character, v string) { c.Homeworld = v }},
	{Name: "films", Kind: ReferenceListField, Set: func(c *Character, v string) { c.Films = v }},
	{Name: "species", Kind: ReferenceListField, Set: func(c *Character, v string) { c.Species = v }},
	{Name: "starships", Kind: ReferenceListField, Set: func(c *Character, v string) { c.Starships = v }},
	{Name: "vehicles", Kind: ReferenceListField, Set: func(c *Character, v string) { c.Vehicles = v }},
}

// Draft is a Character whose reference fields still hold raw URLs.
type Draft struct {
	Character Character
	// Refs maps reference field names to their raw value: a string for
	// ReferenceField, the decoded JSON value (normally []interface{}) for
	// ReferenceListField.
	Refs map[string]interface{}
}
