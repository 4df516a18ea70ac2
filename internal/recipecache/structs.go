package recipecache

import "github.com/lflare/recipecache-golang/pkg/recipes"

// Token stores a representation of an image access token
type Token struct {
	Expires string `json:"expires"`
	Hash    string `json:"hash"`
}

// RecipeView is a recipe as served by the /recipes endpoint
type RecipeView struct {
	recipes.Recipe
	Links []recipes.LinkURL `json:"links"`
}

// RecipesView is the body of the /recipes endpoint
type RecipesView struct {
	Recipes []RecipeView `json:"recipes"`
}

// ClearResponse is the body of the /cache/clear endpoint
type ClearResponse struct {
	Tier        string `json:"tier"`
	DiskRemoved int    `json:"disk_removed"`
}

func newRecipesView(list []recipes.Recipe) RecipesView {
	view := RecipesView{Recipes: make([]RecipeView, 0, len(list))}
	for _, recipe := range list {
		view.Recipes = append(view.Recipes, RecipeView{Recipe: recipe, Links: recipe.LinkURLs()})
	}
	return view
}
