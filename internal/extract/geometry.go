package extract

// Geometry helpers mapping an image shape (batch, channels, height,
// width) and a patch size to token counts. Images whose sides are not
// multiples of the patch size truncate, matching the model's patch
// embedding.

func WidthPatches(imgDims []int, patchSize int) int {
	return imgDims[3] / patchSize
}

func HeightPatches(imgDims []int, patchSize int) int {
	return imgDims[2] / patchSize
}

// PatchCount returns the total token count: the class token plus one
// token per spatial patch, row-major.
func PatchCount(imgDims []int, patchSize int) int {
	return 1 + HeightPatches(imgDims, patchSize)*WidthPatches(imgDims, patchSize)
}
